package webcore

import "strings"

// mimeTypes is the extension map from §6. Unknown extensions fall back
// to text/html, matching the reference server's default.
var mimeTypes = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".js":    "application/javascript",
	".json":  "application/json",
	".xml":   "application/xml",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".png":   "image/png",
	".css":   "text/css",
	".txt":   "text/plain",
	".svg":   "image/svg+xml",
	".svgz":  "image/svg+xml",
	".cache": "text/cache-manifest",
	".otf":   "font/otf",
	".eot":   "font/eot",
	".ttf":   "font/ttf",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".au":    "audio/basic",
	".wav":   "audio/wav",
	".avi":   "video/x-msvideo",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".mp3":   "audio/mpeg",
	".csv":   "text/csv",
	".mp4":   "application/mp4",
	".bin":   "application/octet-stream",
	".doc":   "application/msword",
	".docx":  "application/msword",
	".pdf":   "application/pdf",
	".ps":    "application/postscript",
	".eps":   "application/postscript",
	".ai":    "application/postscript",
	".tar":   "application/x-tar",
	".h264":  "video/h264",
	".dv":    "video/dv",
	".qt":    "video/quicktime",
	".mov":   "video/quicktime",
}

// detectMIME returns the MIME type for a URL path based on its file
// extension, defaulting to text/html for unknown or missing extensions.
func detectMIME(urlPath string) string {
	dot := strings.LastIndexByte(urlPath, '.')
	if dot < 0 || dot == len(urlPath)-1 {
		return "text/html"
	}
	ext := strings.ToLower(urlPath[dot:])
	if mt, ok := mimeTypes[ext]; ok {
		return mt
	}
	return "text/html"
}
