package gateway

import (
	"runtime"
	"strings"
)

// callSite labels the function skip frames above its caller as "package:Function".
func callSite(skip int) string {
	pcs := make([]uintptr, 1)
	if runtime.Callers(skip+2, pcs) == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames(pcs).Next()
	return siteLabel(frame.Function)
}

func siteLabel(function string) string {
	if function == "" {
		return ""
	}
	if i := strings.LastIndex(function, "/"); i >= 0 {
		function = function[i+1:]
	}
	pkg, fn, ok := strings.Cut(function, ".")
	if !ok {
		return function
	}
	fn = strings.NewReplacer("(*", "", ")", "").Replace(fn)
	return pkg + ":" + fn
}
