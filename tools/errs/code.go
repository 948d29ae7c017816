package errs

// Gateway error codes. 1xxx = client faults, 2xxx = auth, 5xxx = server side.
const (
	codeUnknown      = 5000
	codeArgs         = 1001
	codeUnknownKind  = 1002
	codeNotMember    = 1101
	codeNoPermission = 1102
	codeTokenInvalid = 2001
	codeTokenExpired = 2002
	codeUnauthorized = 2003
	codeInternal     = 5001
	codeStorage      = 5002
)

var (
	ErrArgs         = NewCodeError(codeArgs, "invalid argument")
	ErrUnknownKind  = NewCodeError(codeUnknownKind, "unknown event kind")
	ErrNotMember    = NewCodeError(codeNotMember, "not a conversation member")
	ErrNoPermission = NewCodeError(codeNoPermission, "no posting permission")
	ErrTokenInvalid = NewCodeError(codeTokenInvalid, "token invalid")
	ErrTokenExpired = NewCodeError(codeTokenExpired, "token expired")
	ErrUnauthorized = NewCodeError(codeUnauthorized, "connection not authenticated")
	ErrInternal     = NewCodeError(codeInternal, "internal error")
	ErrStorage      = NewCodeError(codeStorage, "storage error")
)
