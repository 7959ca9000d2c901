package sqlassets

import _ "embed"

//go:embed schema/001_inactivity.sql
var InactivitySQL string
