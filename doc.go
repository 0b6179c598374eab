// Package jelstor holds the types shared by the packages of the jelstor put
// engine: its errors, its Logger interface and the log providers.
//
// Puts themselves are performed with package put against a store from package
// store, and are announced through package changes. Package config builds all
// of these from a configuration file.
package jelstor
