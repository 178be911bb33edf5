package common

// Session cookie names shared by the session service and both transports.
const (
	AccessTokenCookieName  = "accessToken"
	RefreshTokenCookieName = "refreshToken"
	LoggedInCookieName     = "loggedIn"
)

// RequestIDHeaderName is echoed back on every RPC response.
const RequestIDHeaderName = "x-request-id"
