package web

import "embed"

//go:embed index.html style.css
var FS embed.FS
