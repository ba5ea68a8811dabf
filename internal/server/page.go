package server

// chatPageHTML is the built-in client. It logs in through /login, keeps the
// user in localStorage and joins the room named in the page URL (?room=).
const chatPageHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>roomrelay</title>
    <style>
        :root { --bg: #121212; --left: #1f1f1f; --right: #4caf50; --text: #eee; }
        body { margin: 0; font-family: sans-serif; display: flex; flex-direction: column; height: 100vh; background: var(--bg); color: var(--text); }
        #login, #chat-area { flex: 1; display: flex; flex-direction: column; width: 100%; }
        #login { justify-content: center; align-items: center; }
        #chat { flex: 1; overflow-y: auto; padding: 15px; display: flex; flex-direction: column; }
        .msg { margin-bottom: 10px; padding: 10px 14px; border-radius: 15px; max-width: 70%; word-wrap: break-word; }
        .msg .meta { font-size: 12px; opacity: 0.7; margin-bottom: 4px; }
        .msg.left { background: var(--left); align-self: flex-start; }
        .msg.right { background: var(--right); color: #fff; align-self: flex-end; }
        #input-area { display: flex; padding: 10px; background: #1a1a1a; border-top: 1px solid #333; }
        input { padding: 10px; border-radius: 8px; border: 1px solid #333; background: #222; color: #eee; margin: 5px; }
        #msg { flex: 1; }
        button { background: #4caf50; color: white; border: none; padding: 0 20px; border-radius: 8px; cursor: pointer; }
        #top { display: flex; justify-content: space-between; padding: 10px; }
        #logout { cursor: pointer; }
    </style>
</head>
<body>
    <div id="login">
        <input id="user" placeholder="Username">
        <input id="pass" type="password" placeholder="Password">
        <button id="loginButton" style="padding:10px 20px">Log in</button>
        <div id="loginMsg" style="color:#f66;margin-top:5px;"></div>
    </div>

    <div id="chat-area" style="display:none">
        <div id="top"><span id="onlineUsers"></span><span id="logout">Log out</span></div>
        <div id="chat"></div>
        <div id="input-area">
            <input id="nick" disabled size="8">
            <input id="msg" placeholder="Type a message...">
            <button id="send">Send</button>
        </div>
    </div>

    <script>
        const params = new URLSearchParams(location.search);
        const roomName = params.get('room') || '';
        const loginDiv = document.getElementById('login');
        const chatDiv = document.getElementById('chat-area');
        const userInput = document.getElementById('user');
        const passInput = document.getElementById('pass');
        const loginMsg = document.getElementById('loginMsg');
        const onlineDiv = document.getElementById('onlineUsers');
        const chat = document.getElementById('chat');
        const nickInput = document.getElementById('nick');
        const msgInput = document.getElementById('msg');

        let ws = null;
        let currentUser = localStorage.getItem('chatUser');
        let token = localStorage.getItem('chatToken');

        function showChat() {
            loginDiv.style.display = 'none';
            chatDiv.style.display = 'flex';
            nickInput.value = currentUser || '';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const query = new URLSearchParams();
            if (roomName) query.set('room', roomName);
            if (token) query.set('token', token);
            else if (currentUser) query.set('user', currentUser);
            ws = new WebSocket(scheme + location.host + '/ws?' + query.toString());

            ws.onmessage = function(event) {
                const d = JSON.parse(event.data);
                if (d.type === 'online') {
                    onlineDiv.textContent = d.users.join(' , ');
                } else if (d.type === 'identity') {
                    currentUser = d.nick;
                    nickInput.value = d.nick;
                } else if (d.type === 'message') {
                    const el = document.createElement('div');
                    el.className = 'msg ' + (d.sender === currentUser ? 'right' : 'left');
                    const meta = document.createElement('div');
                    meta.className = 'meta';
                    meta.textContent = d.nick + ' · ' + d.time;
                    const body = document.createElement('div');
                    body.textContent = d.text;
                    el.appendChild(meta);
                    el.appendChild(body);
                    const atBottom = chat.scrollHeight - chat.scrollTop <= chat.clientHeight + 5;
                    chat.appendChild(el);
                    if (atBottom) chat.scrollTop = chat.scrollHeight;
                }
            };

            ws.onclose = function() {
                onlineDiv.textContent = 'Disconnected';
            };
        }

        function login() {
            const username = userInput.value.trim();
            const password = passInput.value.trim();
            if (!username || !password) {
                loginMsg.textContent = 'Enter a username and password';
                return;
            }
            fetch('/login', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ username: username, password: password })
            }).then(function(r) { return r.json(); }).then(function(res) {
                if (!res.ok) {
                    loginMsg.textContent = 'Wrong username or password';
                    return;
                }
                currentUser = username;
                token = res.token || null;
                localStorage.setItem('chatUser', username);
                if (token) localStorage.setItem('chatToken', token);
                showChat();
                connect();
            });
        }

        function sendMessage() {
            const text = msgInput.value.trim();
            if (!text || !ws || ws.readyState !== WebSocket.OPEN) return;
            ws.send(JSON.stringify({ type: 'message', text: text }));
            msgInput.value = '';
        }

        function logout() {
            localStorage.removeItem('chatUser');
            localStorage.removeItem('chatToken');
            currentUser = null;
            token = null;
            if (ws) ws.close();
            chat.innerHTML = '';
            onlineDiv.textContent = '';
            loginDiv.style.display = 'flex';
            chatDiv.style.display = 'none';
        }

        document.getElementById('loginButton').onclick = login;
        document.getElementById('send').onclick = sendMessage;
        document.getElementById('logout').onclick = logout;
        userInput.addEventListener('keydown', function(e) { if (e.key === 'Enter') login(); });
        passInput.addEventListener('keydown', function(e) { if (e.key === 'Enter') login(); });
        msgInput.addEventListener('keydown', function(e) { if (e.key === 'Enter') sendMessage(); });

        if (currentUser) {
            showChat();
            connect();
        }
    </script>
</body>
</html>`
