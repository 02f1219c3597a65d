// Package dataprovider executes stored procedures and maps their result
// sets into Go structs.
//
// Every call runs on its own connection inside a transaction. Parameters
// are derived from the database catalog and bound by name. When the
// procedure exposes a RETURN_VALUE output, an empty value commits and any
// other value rolls back and is reported as the response's ResultMessage.
// Infrastructure failures are reported the same way; only configuration
// and argument errors are returned as errors.
//
//	p, err := dataprovider.New(cfg, dataprovider.WithLogger(log))
//	params := model.NewParameterCollection("PKG_USERS.GET_USERS").
//		In("P_STATUS", "A").
//		Out("RETURN_VALUE", nil)
//	resp, err := dataprovider.ExecuteStoredProcedure[User](ctx, p, params)
//
// Struct fields match columns by uppercased name, or by an
// `oracle:"COLUMN"` tag.
package dataprovider
