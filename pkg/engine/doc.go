/*
Package engine wraps the container engine behind a small interface. The
Docker implementation drives runtime containers over the Engine API; tests
substitute an in-memory fake.
*/
package engine
