// Package cli implements authzctl, the administration tool for the grant
// store.
//
// Every command except validate reads its wiring from AUTHZ_* environment
// variables (see package config), opens the grant store and releases it on
// exit.
//
//	authzctl validate -policy policy.yaml -watch
//	authzctl migrate
//	authzctl bootstrap-tenant -id 7 -name acme
//	authzctl assign-role -user 42 -tenant 7 -role tenant:editor
//	authzctl assign-role -user 9 -tenant 0 -role system:support
//	authzctl grant -user 42 -tenant 7 -permission Invoice:Export -expires 24h
//	authzctl check -user 42 -tenant 7 -permission Document:Update -resource-id d-1
//	authzctl check -user 9 -tenant 1 -target-tenant 7 -operation tenant_support -permission User:View
//	authzctl permissions -user 42 -tenant 7 -resource Document
//	authzctl purge -schedule "@every 10m"
//	authzctl health
//
// check exits with ErrDenied when the decision is a denial, so it can gate
// scripts.
package cli
