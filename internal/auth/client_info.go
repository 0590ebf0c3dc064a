package auth

// ClientInfo pairs the identity a session presents to the platform: the
// page origin cookies and device headers are scoped to, the Client-Id sent
// on every request, and the User-Agent. Grounded on the web client's public
// identity (the only one drop campaigns are evaluated against).
type ClientInfo struct {
	ClientURL string
	ClientID  string
	UserAgent string
}

// WebClient is the desktop-web identity: the one the platform's drops
// campaigns are served and validated against.
var WebClient = ClientInfo{
	ClientURL: "https://www.twitch.tv",
	ClientID:  "kimne78kx3ncx6brgo4mv6wki5h1ko",
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
}
