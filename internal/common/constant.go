package common

// TokenCookieName is the cookie carrying the access token issued at login.
const TokenCookieName = "token"

const (
	// KeySize is the length of the system-wide AES-128 key.
	KeySize = 16
	// IVSize is the CBC initialization vector length (one AES block).
	IVSize = 16
)
