// Package config validates and resolves the options attached to foreign
// servers, user mappings and foreign tables.
package config

// Option defaults applied by Resolve.
const (
	DefaultServerName        = "127.0.0.1"
	DefaultRowEstimateMethod = "execute"
	DefaultMsgHandler        = "blackhole"
	DefaultMatchColumnNames  = false
)

// Option names.
const (
	OptServerName        = "servername"
	OptLanguage          = "language"
	OptCharacterSet      = "character_set"
	OptPort              = "port"
	OptDatabase          = "database"
	OptDBUse             = "dbuse"
	OptTDSVersion        = "tds_version"
	OptMsgHandler        = "msg_handler"
	OptRowEstimateMethod = "row_estimate_method"
	OptUsername          = "username"
	OptPassword          = "password"
	OptQuery             = "query"
	OptTable             = "table"
	OptMatchColumnNames  = "match_column_names"
)

// TDSVersions lists the accepted tds_version values.
var TDSVersions = []string{"4.2", "5.0", "7.0", "7.1", "7.2", "7.3", "7.4"}
