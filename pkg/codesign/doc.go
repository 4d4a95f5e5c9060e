// Package codesign prepares iOS app bundles for signing and drives
// Apple's codesign tool.
//
// It parses and locates provisioning profiles, unpacks and repacks IPA
// archives, loads P12 identities, inspects Mach-O executables and re-signs
// unpacked .app bundles.
//
// # Basic Usage
//
// To re-sign an unpacked app:
//
//	profile, err := codesign.FindProfile("My Team Profile", codesign.DefaultProfilesDir())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	signer := codesign.NewSigner(shell.NewExecRunner(nil), nil, os.Stdout)
//	err = signer.Resign(ctx, codesign.ResignOptions{
//	    AppPath:     appPath,
//	    Identity:    "Apple Distribution: Example Inc (ABCDE12345)",
//	    ProfilePath: profile,
//	})
package codesign
