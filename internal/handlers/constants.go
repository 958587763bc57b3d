package handlers

// Error codes returned in JSON error bodies
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAppUserNotFound    = "APP_USER_NOT_FOUND"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeExpiredToken       = "EXPIRED_TOKEN"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeForbidden          = "FORBIDDEN"
	CodeCSRFInvalid        = "CSRF_INVALID"
	CodeNotFound           = "NOT_FOUND"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeLastAdmin          = "LAST_ADMIN"
	CodeCannotRemoveSelf   = "CANNOT_REMOVE_SELF"
	CodeInvalidResetToken  = "INVALID_RESET_TOKEN"
	CodeStoreTimeout       = "STORE_TIMEOUT"
	CodeInternal           = "INTERNAL"
)

const (
	ErrInvalidBody          = "Invalid request body"
	ErrUnauthorized         = "Authentication required"
	ErrInternalServerError  = "Internal server error"
	maxRequestBodyBytes     = 1 << 20
	oauthCookieTTLMinutes   = 10
	oauthStateCookieName    = "oauth_state"
	oauthProviderCookieName = "oauth_provider"
	requestIDHeader         = "X-Request-Id"
	retryAfterStoreTimeout  = "1"
)
