// File: internal/readiness/scripts.go
package readiness

// metricsScript gathers the structural signals classification relies on.
const metricsScript = `(() => {
	const charts = document.querySelectorAll("canvas, svg.chart, .chart, [class*='chart'], [class*='graph']");
	const tables = document.querySelectorAll("table, [role='grid'], [class*='data-table'], [class*='datagrid']");
	const controls = document.querySelectorAll("button, a[href], input, select, textarea, [role='button'], [role='tab']");
	return {
		chartCount: charts.length,
		tableCount: tables.length,
		controlCount: controls.length,
		documentHeight: document.documentElement.scrollHeight,
		viewportHeight: window.innerHeight
	};
})()`

// basicContentScript: a main content region exists and has children.
const basicContentScript = `(() => {
	const main = document.querySelector("main, #main, #root, #app, .main-content, [role='main']") || document.body;
	return !!main && main.children.length > 0;
})()`

// noLoadingScript: no visible loading indicator remains.
const noLoadingScript = `(() => {
	const vis = (el) => {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.display !== 'none' && s.visibility !== 'hidden';
	};
	const indicators = document.querySelectorAll(
		".loading, .spinner, .loader, [class*='skeleton'], [aria-busy='true'], [class*='placeholder-glow']");
	for (const el of indicators) {
		if (vis(el)) return false;
	}
	return true;
})()`

// chartsRenderedScript: every chart-like element has non-zero rendered bounds.
const chartsRenderedScript = `(() => {
	const charts = document.querySelectorAll("canvas, svg.chart, .chart, [class*='chart'], [class*='graph']");
	if (charts.length === 0) return true;
	for (const el of charts) {
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) return false;
	}
	return true;
})()`

// tablesPopulatedScript: every table-like element has at least one data row.
const tablesPopulatedScript = `(() => {
	const tables = document.querySelectorAll("table, [role='grid']");
	if (tables.length === 0) return true;
	for (const t of tables) {
		if (!t.querySelector("tbody tr, tr, [role='row']")) return false;
	}
	return true;
})()`

// controlsReadyScript: interactive controls are visible and enabled.
const controlsReadyScript = `(() => {
	const controls = document.querySelectorAll("button, input, select, textarea");
	if (controls.length === 0) return true;
	let visible = 0;
	for (const el of controls) {
		const r = el.getBoundingClientRect();
		if (r.width === 0 && r.height === 0) continue;
		visible++;
		if (el.disabled) return false;
	}
	return visible > 0;
})()`
