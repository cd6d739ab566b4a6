// Package field defines the type tags carried by table columns and bind
// parameters.
//
// A type tag drives three things: how a dialect renders the column type,
// how bound values are pre-processed before they reach the driver, and how
// result values are normalised before they are stored on tracked objects:
//
//	field.TypeInt64.Normalize(int32(6))      // int64(6)
//	field.TypeString.Normalize([]byte("x"))  // "x"
//	field.TypeBool.Normalize(int64(1))       // true (SQLite)
//
// Normalised values are comparable with ==, which is what the identity map
// and attribute history rely on.
package field
