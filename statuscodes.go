package webcore

import "fmt"

// statusPhrases is the status-phrase table from §4.8. Unknown codes
// render as "Unspecified".
var statusPhrases = map[int]string{
	100: "Continue", 101: "Switching Protocols", 102: "Processing",
	200: "OK", 201: "Created", 202: "Accepted", 203: "Non-Authoritative Information",
	204: "No Content", 205: "Reset Content", 206: "Partial Content", 207: "Multi-Status", 208: "Already Reported", 226: "IM Used",
	300: "Multiple Choices", 301: "Moved Permanently", 302: "Found", 303: "See Other",
	304: "Not Modified", 305: "Use Proxy", 306: "Switch Proxy", 307: "Temporary Redirect", 308: "Permanent Redirect",
	400: "Bad Request", 401: "Unauthorized", 402: "Payment Required", 403: "Forbidden",
	404: "Not Found", 405: "Method Not Allowed", 406: "Not Acceptable", 407: "Proxy Authentication Required",
	408: "Request Timeout", 409: "Conflict", 410: "Gone", 411: "Length Required",
	412: "Precondition Failed", 413: "Content Too Large", 414: "URI Too Long", 415: "Unsupported Media Type",
	416: "Range Not Satisfiable", 417: "Expectation Failed", 418: "I'm a Teapot",
	421: "Misdirected Request", 422: "Unprocessable Content", 423: "Locked", 424: "Failed Dependency",
	426: "Upgrade Required", 428: "Precondition Required", 429: "Too Many Requests",
	431: "Request Header Fields Too Large", 451: "Unavailable For Legal Reasons",
	500: "Internal Server Error", 501: "Method Not Implemented", 502: "Bad Gateway",
	503: "Service Unavailable", 504: "Gateway Timeout", 505: "HTTP Version Not Supported",
	506: "Variant Also Negotiates", 507: "Insufficient Storage", 508: "Loop Detected",
	510: "Not Extended", 511: "Network Authentication Required",
}

// statusPhrase returns the reason phrase for code, or "Unspecified" for
// an unknown code.
func statusPhrase(code int) string {
	if phrase, ok := statusPhrases[code]; ok {
		return phrase
	}
	return "Unspecified"
}

// errorBody renders the small server-styled HTML error document used
// for pre-response errors (§7).
func errorBody(code int, detail string) []byte {
	phrase := statusPhrase(code)
	if detail == "" {
		return []byte(fmt.Sprintf("<html><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>", code, phrase, code, phrase))
	}
	return []byte(fmt.Sprintf("<html><head><title>%d %s</title></head><body><h1>%d %s</h1><p>%s</p></body></html>", code, phrase, code, phrase, detail))
}

// kindToStatus maps an internal error Kind to a status code (§7).
func kindToStatus(k Kind) int {
	switch k {
	case KindParseError, KindMultipartError:
		return 400
	case KindUnsupportedMethod:
		return 501
	case KindAuthRequired, KindAuthTokenInvalid:
		return 401
	case KindNotFound:
		return 404
	case KindCompressionError, KindInternalError:
		return 500
	default:
		return 500
	}
}
