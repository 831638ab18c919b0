package db

import _ "embed"

// Schema holds the DDL for the three tables. Applied by deploy scripts and by
// the integration tests against an empty database.
//
//go:embed schema.sql
var Schema string
