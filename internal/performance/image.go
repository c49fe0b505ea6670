package performance

import (
	"net/url"
	"strings"
)

// OptimizeImageURL rewrites an image URL with compression parameters that
// match the recommendations. High quality without memory pressure leaves the
// URL untouched.
func OptimizeImageURL(src string, rec Recommendations) string {
	var params url.Values
	switch {
	case rec.ImageQuality == ImageLow || rec.ReduceMemoryUsage:
		params = url.Values{"q": {"60"}, "w": {"400"}}
	case rec.ImageQuality == ImageMedium:
		params = url.Values{"q": {"80"}, "w": {"800"}}
	default:
		return src
	}

	sep := "?"
	if strings.Contains(src, "?") {
		sep = "&"
	}
	return src + sep + params.Encode()
}
