package errs

// 通用错误码，直接复用 http 状态码
const (
	ArgsError           = 400
	TokenInvalidError   = 401
	NoPermissionError   = 403
	RecordNotFoundError = 404
	ConflictError       = 409
	ServerInternalError = 500
)

var (
	ErrArgs                 = NewCodeError(ArgsError, "invalid arguments")
	ErrTokenInvalid         = NewCodeError(TokenInvalidError, "invalid or missing token")
	ErrSessionNotAuthorized = NewCodeError(NoPermissionError, "access to this session is denied")
	ErrActionNotAllowed     = NewCodeError(NoPermissionError, "action not allowed")
	ErrSessionNotFound      = NewCodeError(RecordNotFoundError, "session not found")
	ErrRecordNotFound       = NewCodeError(RecordNotFoundError, "record not found")
	ErrAlreadyConnected     = NewCodeError(ConflictError, "user already connected")
	ErrNotInSession         = NewCodeError(ConflictError, "connection is not in this session")
	ErrRecordIsExist        = NewCodeError(ConflictError, "record already exists")
	ErrInternal             = NewCodeError(ServerInternalError, "internal server error")
)
