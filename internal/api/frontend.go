package api

// terminalPageHTML is the optional web terminal convenience page (spec
// §4.10), grounded on the teacher's src/handler/terminal/frontend.go
// xterm.js page, repointed at the /buffers binary protocol instead of
// a raw PTY passthrough socket.
const terminalPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>vibetunnel</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@xterm/xterm@5.5.0/css/xterm.css">
  <style>
    * { margin: 0; padding: 0; box-sizing: border-box; }
    html, body { height: 100%; width: 100%; overflow: hidden; background: #1a1b26; }
    #terminal { height: 100%; width: 100%; }
    .xterm { height: 100%; padding: 8px; }
    #status {
      position: fixed; top: 8px; right: 8px; padding: 4px 12px;
      border-radius: 4px; font-family: monospace; font-size: 12px; z-index: 1000;
      background: #2d2d3a; color: #9ece6a;
    }
  </style>
</head>
<body>
  <div id="status">connecting…</div>
  <div id="terminal"></div>
  <script src="https://cdn.jsdelivr.net/npm/@xterm/xterm@5.5.0/lib/xterm.js"></script>
  <script>
    const term = new Terminal({ convertEol: true, fontFamily: "monospace" });
    term.open(document.getElementById("terminal"));

    const params = new URLSearchParams(location.search);
    const sessionId = params.get("session");
    const status = document.getElementById("status");
    const proto = location.protocol === "https:" ? "wss:" : "ws:";
    const ws = new WebSocket(proto + "//" + location.host + "/buffers");
    ws.binaryType = "arraybuffer";

    ws.onopen = () => {
      status.textContent = "connected";
      if (sessionId) {
        ws.send(JSON.stringify({ type: "subscribe", sessionId }));
      }
    };
    ws.onclose = () => { status.textContent = "disconnected"; };
    ws.onmessage = (ev) => {
      if (typeof ev.data === "string") {
        const msg = JSON.parse(ev.data);
        if (msg.type === "connected" || msg.type === "subscribed") {
          status.textContent = msg.type;
        }
        return;
      }
      // Binary frames carry a rendered snapshot, not raw bytes; this
      // page does not decode them.
    };
  </script>
</body>
</html>
`
