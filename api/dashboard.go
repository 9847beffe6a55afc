package api

import "net/http"

// DashboardHandler serves a page that polls /metrics.
func DashboardHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>windowfence</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #f4f5f7; margin: 0; padding: 24px; }
  h1 { margin: 0 0 16px; }
  .stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 12px; margin-bottom: 24px; }
  .stat { background: #fff; border-radius: 8px; padding: 16px; box-shadow: 0 1px 3px rgba(0,0,0,.1); }
  .label { color: #666; font-size: .85em; text-transform: uppercase; }
  .value { font-size: 1.8em; font-weight: 600; margin-top: 4px; }
  .denied { color: #c0392b; } .allowed { color: #27ae60; }
  table { width: 100%; border-collapse: collapse; background: #fff; border-radius: 8px; overflow: hidden; }
  th, td { padding: 10px 12px; text-align: left; border-bottom: 1px solid #eee; }
  th { background: #fafafa; font-size: .85em; color: #555; }
</style>
</head>
<body>
<h1>windowfence</h1>
<div class="stats">
  <div class="stat"><div class="label">Total</div><div class="value" id="total">0</div></div>
  <div class="stat"><div class="label">Allowed</div><div class="value allowed" id="allowed">0</div></div>
  <div class="stat"><div class="label">Denied</div><div class="value denied" id="denied">0</div></div>
  <div class="stat"><div class="label">Deny rate</div><div class="value" id="rate">0%</div></div>
  <div class="stat"><div class="label">Identities</div><div class="value" id="identities">0</div></div>
</div>
<table>
  <thead><tr><th>Identity</th><th>Total</th><th>Allowed</th><th>Denied</th><th>Last decision</th></tr></thead>
  <tbody id="top"><tr><td colspan="5">No decisions yet</td></tr></tbody>
</table>
<script>
function esc(s) { const d = document.createElement('div'); d.textContent = s; return d.innerHTML; }
async function refresh() {
  try {
    const data = await (await fetch('/metrics')).json();
    document.getElementById('total').textContent = data.total_requests;
    document.getElementById('allowed').textContent = data.allowed_requests;
    document.getElementById('denied').textContent = data.denied_requests;
    document.getElementById('rate').textContent = (data.deny_rate * 100).toFixed(1) + '%';
    document.getElementById('identities').textContent = data.unique_identities;
    const rows = (data.top_identities || []).map(i =>
      '<tr><td>' + esc(i.identity) + '</td><td>' + i.total + '</td><td>' + i.allowed +
      '</td><td>' + i.denied + '</td><td>' + new Date(i.last_decision_at).toLocaleTimeString() + '</td></tr>');
    if (rows.length) document.getElementById('top').innerHTML = rows.join('');
  } catch (e) {
    console.error('metrics fetch failed', e);
  }
}
refresh();
setInterval(refresh, 2000);
</script>
</body>
</html>
`
