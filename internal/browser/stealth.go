package browser

// launchFlags hide the most common automation tells.
var launchFlags = map[string]string{
	"disable-blink-features": "AutomationControlled",
	"disable-dev-shm-usage":  "",
	"disable-setuid-sandbox": "",
	"disable-web-security":   "",
	"disable-features":       "IsolateOrigins,site-per-process",
	"remote-allow-origins":   "*",
}

// fingerprintJS runs before any page script, after go-rod/stealth.
const fingerprintJS = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
Object.defineProperty(navigator, 'languages', {get: () => ['zh-CN', 'zh', 'en-US', 'en']});
window.chrome = {runtime: {}, loadTimes: function() {}, csi: function() {}};
Object.defineProperty(navigator, 'maxTouchPoints', {get: () => 5});
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
	parameters.name === 'notifications' ?
		Promise.resolve({state: Notification.permission}) :
		originalQuery(parameters)
);
`
