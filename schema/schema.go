// Package schema holds the relational schema shared by the service and blogctl.
package schema

import _ "embed"

// SQL creates every table and index if missing. Safe to run repeatedly.
//
//go:embed schema.sql
var SQL string

// Tables lists the tables in dependency order, parents first.
var Tables = []string{"users", "posts", "post_images", "comments"}
