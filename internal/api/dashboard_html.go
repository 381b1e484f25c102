package api

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>rowwatch</title>
<style>
*,*::before,*::after{box-sizing:border-box;margin:0;padding:0}
:root{
  --bg:#0f1117;--bg-card:#161b22;--bg-card-hover:#1c2129;--bg-input:#0d1117;
  --border:#30363d;--text:#e1e4e8;--text-muted:#8b949e;--text-dim:#484f58;
  --primary:#58a6ff;--primary-hover:#79b8ff;--red:#f85149;
  --radius:8px;--radius-sm:4px;
}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;background:var(--bg);color:var(--text);line-height:1.5;min-height:100vh}
button{cursor:pointer;font-family:inherit;font-size:inherit}

header{background:var(--bg-card);border-bottom:1px solid var(--border);padding:12px 24px;position:sticky;top:0;z-index:100}
.header-inner{max-width:1400px;margin:0 auto;display:flex;align-items:center;gap:16px;flex-wrap:wrap}
.header-title{font-size:20px;font-weight:700}
.header-db{color:var(--text-muted);font-size:13px;font-family:ui-monospace,SFMono-Regular,Menlo,monospace}
#status{margin-left:auto;color:var(--text-muted);font-size:13px}

.container{max-width:1400px;margin:0 auto;padding:24px 24px 48px;display:grid;grid-template-columns:240px 1fr;gap:24px}
.card{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);padding:16px}
.card h2{font-size:12px;text-transform:uppercase;letter-spacing:.5px;color:var(--text-muted);margin-bottom:12px;display:flex;align-items:center;justify-content:space-between}

#tablesList{display:flex;flex-direction:column;gap:6px}
.table-button{text-align:left;padding:6px 10px;border-radius:var(--radius-sm);border:1px solid var(--border);background:var(--bg-input);color:var(--text)}
.table-button:hover{background:var(--bg-card-hover)}
.table-button.active{border-color:var(--primary);color:var(--primary);font-weight:600}

.toolbar{display:flex;align-items:center;gap:12px;margin-bottom:16px;flex-wrap:wrap}
.toolbar input{background:var(--bg-input);color:var(--text);border:1px solid var(--border);border-radius:var(--radius);padding:6px 10px;font-size:14px;outline:none}
.toolbar input:focus{border-color:var(--primary)}
#query{flex:1;min-width:200px}
#limit{width:90px}
.btn{display:inline-flex;align-items:center;padding:6px 14px;border-radius:var(--radius);font-size:13px;font-weight:500;border:1px solid var(--border);background:var(--bg-card);color:var(--text)}
.btn:hover{background:var(--bg-card-hover)}
.btn-primary{background:var(--primary);border-color:var(--primary);color:#fff}
.btn-primary:hover{background:var(--primary-hover);border-color:var(--primary-hover)}
.btn-sm{padding:2px 8px;font-size:11px}

#selectedTitle{font-size:16px;font-weight:600;margin-bottom:12px}
table{width:100%;border-collapse:collapse;font-size:13px}
th{text-align:left;color:var(--text-muted);font-weight:500;border-bottom:1px solid var(--border);padding:6px 8px}
td{border-bottom:1px solid var(--border);padding:6px 8px;vertical-align:top}
td:first-child{width:80px;color:var(--text-muted)}
td:last-child{width:200px;color:var(--text-muted);white-space:nowrap}
pre.content{white-space:pre-wrap;word-break:break-word;font-family:ui-monospace,SFMono-Regular,Menlo,monospace;font-size:12px}
.muted{color:var(--text-dim)}
@media (max-width:800px){.container{grid-template-columns:1fr}}
</style>
</head>
<body>
<header>
  <div class="header-inner">
    <span class="header-title">rowwatch</span>
    <span class="header-db">%DB_PATH%</span>
    <span id="status">Status: idle</span>
  </div>
</header>
<main class="container">
  <section class="card">
    <h2>Tables <button id="refreshTables" class="btn btn-sm" type="button">Refresh</button></h2>
    <div id="tablesList"><div class="muted">Loading…</div></div>
  </section>
  <section class="card">
    <div id="selectedTitle">No table selected</div>
    <div class="toolbar">
      <input id="query" type="search" placeholder="Filter content…">
      <input id="limit" type="number" min="1" placeholder="200">
      <button id="refreshRows" class="btn" type="button">Refresh rows</button>
      <button id="togglePolling" class="btn btn-primary" type="button">Pause</button>
    </div>
    <table>
      <thead><tr><th>id</th><th>content</th><th>created_at</th></tr></thead>
      <tbody id="rowsBody"></tbody>
    </table>
  </section>
</main>
<script>
(function(){
  'use strict';

  var REFRESH_MS = parseInt('%REFRESH_MS%', 10) || 2000;
  var DEFAULT_LIMIT = '200';

  var state = {tables: [], selected: null, polling: true, timer: null};

  function byId(id){ return document.getElementById(id); }
  function clock(){ return new Date().toLocaleTimeString(); }
  function setStatus(text){ byId('status').textContent = 'Status: ' + text; }

  function getJSON(url){
    return fetch(url, {headers: {'Accept': 'application/json'}}).then(function(resp){
      return resp.json().catch(function(){ return {}; }).then(function(body){
        if(!resp.ok){ throw new Error(body.error || ('HTTP ' + resp.status)); }
        return body;
      });
    });
  }

  function showMessage(box, text){
    var div = document.createElement('div');
    div.className = 'muted';
    div.textContent = text;
    box.innerHTML = '';
    box.appendChild(div);
  }

  function renderTables(){
    var box = byId('tablesList');
    if(state.tables.length === 0){ showMessage(box, 'No tables found'); return; }
    box.innerHTML = '';
    state.tables.forEach(function(name){
      var b = document.createElement('button');
      b.type = 'button';
      b.className = 'table-button' + (name === state.selected ? ' active' : '');
      b.textContent = name;
      b.addEventListener('click', function(){ selectTable(name); });
      box.appendChild(b);
    });
  }

  function cellText(v){ return v === null || v === undefined ? '' : String(v); }

  function renderRows(rows){
    var body = byId('rowsBody');
    body.innerHTML = '';
    if(rows.length === 0){
      body.innerHTML = '<tr><td colspan="3" class="muted">No rows</td></tr>';
      return;
    }
    rows.forEach(function(row){
      var tr = document.createElement('tr');
      var id = document.createElement('td');
      id.textContent = cellText(row.id);
      var content = document.createElement('td');
      var pre = document.createElement('pre');
      pre.className = 'content';
      pre.textContent = cellText(row.content);
      content.appendChild(pre);
      var created = document.createElement('td');
      created.textContent = cellText(row.created_at);
      tr.appendChild(id);
      tr.appendChild(content);
      tr.appendChild(created);
      body.appendChild(tr);
    });
  }

  function loadTables(){
    showMessage(byId('tablesList'), 'Loading…');
    return getJSON('/api/tables').then(function(body){
      state.tables = body.tables || [];
      renderTables();
      setStatus('tables loaded');
      if(!state.selected && state.tables.length){ selectTable(state.tables[0]); }
    }).catch(function(err){
      showMessage(byId('tablesList'), 'Error fetching tables: ' + err.message);
      setStatus('error');
      console.error('loading tables failed', err);
    });
  }

  function fetchRows(){
    if(!state.selected){ return; }
    setStatus('polling @ ' + clock());
    var limit = byId('limit').value || DEFAULT_LIMIT;
    var q = byId('query').value || '';
    var url = '/api/rows/' + encodeURIComponent(state.selected) +
      '?limit=' + encodeURIComponent(limit) + (q ? '&q=' + encodeURIComponent(q) : '');
    getJSON(url).then(function(body){
      if(body.rows){ renderRows(body.rows); }
      else { console.warn('unexpected rows payload', body); }
      setStatus('last update ' + clock());
    }).catch(function(err){
      setStatus('poll error, retrying');
      console.error('fetching rows failed', err);
    });
  }

  function selectTable(name){
    state.selected = name;
    byId('selectedTitle').textContent = 'Table: ' + name;
    renderTables();
    fetchRows();
    if(state.polling){ startPolling(); }
  }

  function startPolling(){
    if(state.timer){ clearInterval(state.timer); }
    state.timer = setInterval(function(){ if(state.selected){ fetchRows(); } }, REFRESH_MS);
    console.debug('polling every', REFRESH_MS, 'ms');
  }

  function stopPolling(){
    if(state.timer){ clearInterval(state.timer); }
    state.timer = null;
    console.debug('polling stopped');
  }

  function togglePolling(){
    state.polling = !state.polling;
    byId('togglePolling').textContent = state.polling ? 'Pause' : 'Resume';
    if(state.polling){ startPolling(); } else { stopPolling(); }
  }

  byId('refreshTables').addEventListener('click', loadTables);
  byId('refreshRows').addEventListener('click', fetchRows);
  byId('togglePolling').addEventListener('click', togglePolling);

  loadTables();
  startPolling();
})();
</script>
</body>
</html>
`
