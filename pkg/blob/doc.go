/*
Package blob manages per-application object storage.

Every app owns two buckets: a private one for function data and a public one
for static web hosting, served through the reverse proxy. Manager covers
bucket lifecycle, policy, object CRUD and presigned downloads. File gives
runtime code file-open semantics over objects: open modes r/w/a/x with +
and b modifiers, buffered writes uploaded on Close.
*/
package blob
