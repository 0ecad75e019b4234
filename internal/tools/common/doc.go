// Package common provides helpers shared by the tool implementations.
package common
