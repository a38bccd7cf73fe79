// Package logging builds the relay's log/slog logger.
//
// Records are JSON by default and text when format is "text". Every record
// carries the service name and build version, and subsystems add a
// component attribute through Logger.Component.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Values logged under secret, password, token, authorization or pairing_code are
// replaced with [REDACTED], so a careless call cannot leak gateway secrets
// or pairing codes. Gateway IDs and request IDs are safe to log and should
// be attached to every bridge record.
package logging
