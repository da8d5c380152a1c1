// Command stitchctl uploads artwork to a stitchdesk server, triggers
// conversions and follows their status from the terminal.
package main
