// Package audit records authorization decisions and administrative changes.
//
// Events flow through a Recorder into a Logger sink: a rotating FileLogger,
// a WriterLogger, a DBLogger backed by PostgreSQL, or a MultiLogger fanning
// out to several of them.
//
//	sink, _ := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: "/var/log/tenantauthz/audit"})
//	recorder := audit.NewRecorder(sink, audit.RecorderConfig{Metrics: metrics})
//	defer recorder.Close()
//
// Every cross-tenant attempt is recorded, whether allowed or denied.
// Cross-tenant and mutation events have their own queue and wait briefly
// for space; permission checks never block and are dropped when full.
// Granted same-tenant checks can be skipped with RecorderConfig.SkipGranted.
package audit
