package config

import (
	"slices"
	"strconv"
	"strings"

	"github.com/nnnkkk7/tds-bridge/pkg/diag"
	"github.com/nnnkkk7/tds-bridge/pkg/estimate"
	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
	"github.com/nnnkkk7/tds-bridge/pkg/remote"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// Context is the catalog object an option is attached to.
type Context int

// Option contexts.
const (
	ContextServer Context = iota
	ContextUserMapping
	ContextTable
)

func (c Context) String() string {
	switch c {
	case ContextServer:
		return "server"
	case ContextUserMapping:
		return "user mapping"
	default:
		return "foreign table"
	}
}

var validOptions = map[Context][]string{
	ContextServer: {
		OptServerName, OptLanguage, OptCharacterSet, OptPort, OptDatabase, OptDBUse,
		OptTDSVersion, OptMsgHandler, OptRowEstimateMethod,
	},
	ContextUserMapping: {OptUsername, OptPassword},
	ContextTable:       {OptQuery, OptTable, OptRowEstimateMethod, OptMatchColumnNames},
}

// IsValidOption reports whether name may be set in ctx.
func IsValidOption(name string, ctx Context) bool {
	return slices.Contains(validOptions[ctx], name)
}

// Option is a single name/value pair.
type Option struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OptionSet is the merged view of server, user mapping and table options.
type OptionSet struct {
	ServerName        string
	Port              int
	Language          string
	CharacterSet      string
	Database          string
	DBUse             bool
	TDSVersion        string
	MsgHandler        string
	RowEstimateMethod estimate.Method
	Username          string
	Password          string
	Query             string
	Table             string
	MatchColumnNames  bool
}

// ResolvedTable is everything needed to plan and scan a foreign table.
type ResolvedTable struct {
	ID      string
	Name    string
	Server  string
	Options *OptionSet
	Target  types.TargetSchema
}

// ValidateOptions checks the options of one catalog object.
func ValidateOptions(ctx Context, opts []Option) error {
	var set OptionSet
	if err := set.apply(ctx, opts); err != nil {
		return err
	}
	if ctx == ContextTable {
		return set.validateTable()
	}
	return nil
}

// Resolve merges the options of a server, a user mapping and a foreign
// table, applies defaults and builds the remote query. Table level
// row_estimate_method overrides the server's.
func Resolve(server, user, table []Option) (*OptionSet, error) {
	set := &OptionSet{}
	if err := set.apply(ContextServer, server); err != nil {
		return nil, err
	}
	if err := set.apply(ContextUserMapping, user); err != nil {
		return nil, err
	}

	serverMethod := set.RowEstimateMethod
	set.RowEstimateMethod = ""
	if err := set.apply(ContextTable, table); err != nil {
		return nil, err
	}
	if set.RowEstimateMethod == "" {
		set.RowEstimateMethod = serverMethod
	}

	if err := set.validateTable(); err != nil {
		return nil, err
	}
	set.setDefaults()
	if set.Query == "" {
		set.Query = "SELECT * FROM " + set.Table
	}
	return set, nil
}

func (o *OptionSet) apply(ctx Context, opts []Option) error {
	seen := make(map[string]bool, len(opts))
	for _, opt := range opts {
		if !IsValidOption(opt.Name, ctx) {
			return fdwerr.NewConfigError("invalid option %q", opt.Name).
				WithHint("Valid options in this context are: %s", strings.Join(validOptions[ctx], ", "))
		}
		if seen[opt.Name] {
			return fdwerr.NewConfigError("redundant option: %s (%s)", opt.Name, opt.Value)
		}
		seen[opt.Name] = true

		if err := o.set(opt); err != nil {
			return err
		}
	}
	return nil
}

func (o *OptionSet) set(opt Option) error {
	var err error
	switch opt.Name {
	case OptServerName:
		o.ServerName = opt.Value
	case OptLanguage:
		o.Language = opt.Value
	case OptCharacterSet:
		o.CharacterSet = opt.Value
	case OptPort:
		o.Port, err = strconv.Atoi(opt.Value)
		if err != nil || o.Port < 1 || o.Port > 65535 {
			return fdwerr.NewConfigError("port must be an integer between 1 and 65535, got %q", opt.Value)
		}
	case OptDatabase:
		o.Database = opt.Value
	case OptDBUse:
		o.DBUse, err = parseFlag(opt)
	case OptTDSVersion:
		if !slices.Contains(TDSVersions, opt.Value) {
			return fdwerr.NewConfigError("unknown tds version: %s", opt.Value).
				WithHint("Valid versions are: %s", strings.Join(TDSVersions, ", "))
		}
		o.TDSVersion = opt.Value
	case OptMsgHandler:
		if _, err := diag.HandlerForName(opt.Value, diag.Discard); err != nil {
			return err
		}
		o.MsgHandler = opt.Value
	case OptRowEstimateMethod:
		o.RowEstimateMethod, err = estimate.ParseMethod(opt.Value)
	case OptUsername:
		o.Username = opt.Value
	case OptPassword:
		o.Password = opt.Value
	case OptQuery:
		o.Query = opt.Value
	case OptTable:
		o.Table = opt.Value
	case OptMatchColumnNames:
		o.MatchColumnNames, err = parseFlag(opt)
	}
	return err
}

// parseFlag reads an integer valued switch. Any non-zero value is true.
func parseFlag(opt Option) (bool, error) {
	n, err := strconv.Atoi(strings.TrimSpace(opt.Value))
	if err != nil {
		return false, fdwerr.NewConfigError("%s must be an integer, got %q", opt.Name, opt.Value)
	}
	return n != 0, nil
}

func (o *OptionSet) validateTable() error {
	switch {
	case o.Table != "" && o.Query != "":
		return fdwerr.NewConfigError("conflicting options: table and query options can't be used together")
	case o.Table == "" && o.Query == "":
		return fdwerr.NewConfigError("required options: either a table or a query must be specified")
	}
	return nil
}

func (o *OptionSet) setDefaults() {
	if o.ServerName == "" {
		o.ServerName = DefaultServerName
	}
	if o.RowEstimateMethod == "" {
		o.RowEstimateMethod = estimate.Method(DefaultRowEstimateMethod)
	}
	if o.MsgHandler == "" {
		o.MsgHandler = DefaultMsgHandler
	}
}

// MessageHandler returns the handler selected by msg_handler.
func (o *OptionSet) MessageHandler(sink diag.Sink) (diag.MessageHandler, error) {
	return diag.HandlerForName(o.MsgHandler, sink)
}

// ConnectOptions returns the login parameters for a remote session.
func (o *OptionSet) ConnectOptions(handler diag.MessageHandler) remote.ConnectOptions {
	return remote.ConnectOptions{
		ServerName:     o.ServerName,
		Port:           o.Port,
		Username:       o.Username,
		Password:       o.Password,
		Database:       o.Database,
		DBUse:          o.DBUse,
		CharacterSet:   o.CharacterSet,
		Language:       o.Language,
		TDSVersion:     o.TDSVersion,
		MessageHandler: handler,
	}
}
