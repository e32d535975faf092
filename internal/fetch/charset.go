package fetch

import (
	"mime"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// decodeBody converts a page to UTF-8. A charset in the Content-Type
// header wins. Without one, valid UTF-8 is kept and anything else is
// sniffed from the document.
func decodeBody(body []byte, contentType string) []byte {
	var enc encoding.Encoding
	name := ""

	if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
		if e, err := htmlindex.Get(params["charset"]); err == nil {
			enc = e
			name, _ = htmlindex.Name(e)
		}
	}
	if enc == nil {
		if utf8.Valid(body) {
			return body
		}
		enc, name, _ = charset.DetermineEncoding(body, "text/html")
	}
	if strings.EqualFold(name, "utf-8") || enc == nil {
		return body
	}

	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		zap.L().Debug("fetch: decode charset", zap.String("charset", name), zap.Error(err))
		return body
	}
	return out
}
