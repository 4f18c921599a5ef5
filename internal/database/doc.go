// Package database provides connection pool management for the message
// history store. One PostgreSQL pool holds the confirmed-message archive;
// it is only opened when history persistence is enabled.
package database
