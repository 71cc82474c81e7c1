/*
Package config loads controller and runtime configuration from environment
variables. Missing critical settings (base domain, database and blob store
credentials, the runtime's APP_ID) fail validation so startup aborts with a
logged reason instead of limping along half-configured.
*/
package config
