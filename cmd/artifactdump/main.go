// Package main implements the artifactdump command line tool for
// inspecting forensic artifact files.
//
//	classify  Identify the format of one or more files by byte signature
//	events    Decode a file and print its normalized events
//
// Usage
//
// Identify files
//
//	artifactdump classify $MFT store.db unknown.bin
//
// Decode events
//
//	artifactdump events --json store.db
//	artifactdump events --key <base64 key> SyncDiagnostics.odl
package main

func main() {
	execute()
}
