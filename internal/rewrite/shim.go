package rewrite

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/archivore/mirror/pkg/types"
)

// BuildFallbackMap builds the {absoluteURL → rewriteTo} table the offline
// shim consults, including a query-stripped copy of each key when
// stripQuery is set, so pages with and without a query string collapse
// to the same entry.
func BuildFallbackMap(index map[string]types.AssetRecord, stripQuery bool) map[string]string {
	out := make(map[string]string, len(index)*2)
	for absURL, rec := range index {
		target := assetTarget(rec)
		out[absURL] = target
		if stripQuery {
			if idx := strings.IndexByte(absURL, '?'); idx != -1 {
				stripped := absURL[:idx]
				if _, exists := out[stripped]; !exists {
					out[stripped] = target
				}
			}
		}
	}
	return out
}

// InjectShim appends the offline fallback <script> before </body> (or at
// document end if no closing tag is present). The shim is idempotent,
// guarded by window.__OFFLINE_FALLBACK__.
func InjectShim(htmlDoc string, fallbackMap map[string]string) (string, error) {
	mapJSON, err := json.Marshal(fallbackMap)
	if err != nil {
		return "", fmt.Errorf("marshaling offline fallback map: %w", err)
	}

	script := fmt.Sprintf(`<script>%s</script>`, fmt.Sprintf(shimTemplate, string(mapJSON)))

	lower := strings.ToLower(htmlDoc)
	if idx := strings.LastIndex(lower, "</body>"); idx != -1 {
		return htmlDoc[:idx] + script + htmlDoc[idx:], nil
	}
	return htmlDoc + script, nil
}

// shimTemplate patches fetch/XMLHttpRequest to fall back to a locally
// captured copy when the live request fails or the mapping exists and the
// response is not ok. %s is the fallback map's JSON.
const shimTemplate = `(function(){
  if (window.__OFFLINE_FALLBACK__) return;
  window.__OFFLINE_FALLBACK__ = true;
  var map = %s;

  function lookup(url) {
    if (map[url]) return map[url];
    var noQuery = url.split('?')[0];
    if (map[noQuery]) return map[noQuery];
    return null;
  }

  var nativeFetch = window.fetch;
  if (nativeFetch) {
    window.fetch = function(input, init) {
      var url = typeof input === 'string' ? input : (input && input.url);
      var local = url ? lookup(url) : null;
      return nativeFetch.call(window, input, init).then(function(resp) {
        if (!resp.ok && local) {
          return nativeFetch.call(window, local, init);
        }
        return resp;
      }, function(err) {
        if (local) return nativeFetch.call(window, local, init);
        throw err;
      });
    };
  }

  var NativeXHR = window.XMLHttpRequest;
  if (NativeXHR) {
    window.XMLHttpRequest = function() {
      var xhr = new NativeXHR();
      var originalOpen = xhr.open;
      var requestURL = null;
      xhr.open = function(method, url) {
        requestURL = url;
        var args = Array.prototype.slice.call(arguments);
        return originalOpen.apply(xhr, args);
      };
      xhr.addEventListener('error', function() {
        var local = requestURL ? lookup(requestURL) : null;
        if (local && local !== requestURL) {
          originalOpen.call(xhr, 'GET', local, true);
          xhr.send();
        }
      });
      return xhr;
    };
  }
})();`
