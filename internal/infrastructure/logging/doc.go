// Package logging builds the structured slog logger shared by every nsmd
// component.
//
// Entries carry service=nsmd and the daemon version. Components take a
// child logger from Component so each line names its origin:
//
//	log := logging.New(cfg.Logging, version)
//	req.SetLogger(log.Component("requester"))
//
// The level, format (json or text) and output (stdout or stderr) come from
// the logging section of nsmd.yaml. Attributes named token, secret,
// password, authorization or jwt_secret are written as [REDACTED].
package logging
