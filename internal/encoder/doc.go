// Package encoder encodes flat table rows into staging file formats.
//
// # Supported Formats
//
//   - Delimited: one line per row, RFC 4180 quoting, configurable delimiter.
//     Output is byte-identical for identical input.
//   - Parquet: columnar, one required string column per table column,
//     configurable compression. Output is byte-identical for identical input.
//   - Avro: object container file with a string field per column.
//
// # Encoder Factory
//
//	factory := encoder.NewFactory(pkgencoder.FormatParquet, "snappy", "")
//	enc, err := factory.CreateEncoder()
//	if err != nil {
//	    return err
//	}
//	n, err := enc.Encode(w, schema, rows)
//
// Encoders keep no state between calls and are safe for concurrent use.
package encoder
