// Package main provides fox, a CLI that builds iOS targets with xcodebuild
// and packages them as signed IPAs, or re-signs existing IPAs.
//
// The signing and archive helpers live in the codesign subpackage:
//
//	import "github.com/aluedeke/go-fox/pkg/codesign"
//
// # Installation
//
//	go install github.com/aluedeke/go-fox@latest
//
// fox needs the Xcode command-line tools (xcodebuild, codesign, security).
package main
