package codesign

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"go.mozilla.org/pkcs7"
)

// Code signature constants
const (
	CSMAGIC_CODEDIRECTORY      = 0xfade0c02
	CSMAGIC_EMBEDDED_SIGNATURE = 0xfade0cc0
	CSMAGIC_BLOBWRAPPER        = 0xfade0b01

	CSSLOT_CODEDIRECTORY             = 0
	CSSLOT_ALTERNATE_CODEDIRECTORIES = 0x1000
	CSSLOT_CMS_SIGNATURE             = 0x10000

	CS_HASHTYPE_SHA1   = 1
	CS_HASHTYPE_SHA256 = 2

	LC_CODE_SIGNATURE = 0x1d
)

// ErrNotSigned is returned for binaries without LC_CODE_SIGNATURE
var ErrNotSigned = errors.New("no code signature found")

// Signature summarises the embedded signature of a Mach-O binary
type Signature struct {
	Identifier string // usually the bundle ID
	TeamID     string
	HashType   string
	CDHash     string // hex, truncated to 20 bytes like codesign -dvvv prints it
	Signer     string // CMS signer common name, empty for ad hoc signatures
}

// AdHoc reports whether the signature carries no signing certificate
func (s *Signature) AdHoc() bool {
	return s.Signer == ""
}

// ReadSignature reads the signature of the binary at path. For fat binaries
// the first slice is used.
func ReadSignature(path string) (*Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read binary: %w", err)
	}
	return ParseSignature(data)
}

// ParseSignature extracts the signature summary from Mach-O data
func ParseSignature(data []byte) (*Signature, error) {
	slice := data
	if len(data) >= 24 && binary.BigEndian.Uint32(data[:4]) == 0xcafebabe {
		offset := binary.BigEndian.Uint32(data[16:20])
		size := binary.BigEndian.Uint32(data[20:24])
		if uint64(offset)+uint64(size) <= uint64(len(data)) {
			slice = data[offset : offset+size]
		}
	}

	sigOffset, sigSize, found := findCodeSignatureOffset(slice)
	if !found {
		return nil, ErrNotSigned
	}
	if uint64(sigOffset)+uint64(sigSize) > uint64(len(slice)) {
		return nil, fmt.Errorf("code signature extends beyond file")
	}
	sig := slice[sigOffset : sigOffset+sigSize]

	if len(sig) < 12 || binary.BigEndian.Uint32(sig[0:4]) != CSMAGIC_EMBEDDED_SIGNATURE {
		return nil, fmt.Errorf("invalid code signature SuperBlob")
	}
	count := binary.BigEndian.Uint32(sig[8:12])
	if uint64(len(sig)) < 12+uint64(count)*8 {
		return nil, fmt.Errorf("signature data too short for blob index")
	}

	info := &Signature{}
	for i := uint32(0); i < count; i++ {
		entry := 12 + i*8
		slot := binary.BigEndian.Uint32(sig[entry:])
		offset := binary.BigEndian.Uint32(sig[entry+4:])
		if uint64(offset)+8 > uint64(len(sig)) {
			continue
		}
		length := binary.BigEndian.Uint32(sig[offset+4:])
		if length < 8 || uint64(offset)+uint64(length) > uint64(len(sig)) {
			continue
		}
		blob := sig[offset : offset+length]

		switch {
		case slot == CSSLOT_CODEDIRECTORY:
			if err := info.parseCodeDirectory(blob); err != nil {
				return nil, err
			}
		case slot >= CSSLOT_ALTERNATE_CODEDIRECTORIES && slot < CSSLOT_ALTERNATE_CODEDIRECTORIES+5:
			// SHA-256 alternates replace a SHA-1 primary in codesign's output
			if info.HashType != "sha256" {
				alt := &Signature{}
				if err := alt.parseCodeDirectory(blob); err == nil && alt.HashType == "sha256" {
					info.HashType, info.CDHash = alt.HashType, alt.CDHash
				}
			}
		case slot == CSSLOT_CMS_SIGNATURE:
			info.Signer = cmsSigner(blob[8:])
		}
	}

	if info.Identifier == "" {
		return nil, fmt.Errorf("code signature has no CodeDirectory")
	}
	return info, nil
}

func (s *Signature) parseCodeDirectory(blob []byte) error {
	if len(blob) < 44 || binary.BigEndian.Uint32(blob[0:4]) != CSMAGIC_CODEDIRECTORY {
		return fmt.Errorf("invalid CodeDirectory")
	}

	version := binary.BigEndian.Uint32(blob[8:12])
	s.Identifier = cString(blob, binary.BigEndian.Uint32(blob[20:24]))
	if version >= 0x20200 && len(blob) >= 52 {
		if teamOffset := binary.BigEndian.Uint32(blob[48:52]); teamOffset > 0 {
			s.TeamID = cString(blob, teamOffset)
		}
	}

	switch blob[37] {
	case CS_HASHTYPE_SHA1:
		s.HashType = "sha1"
		sum := sha1.Sum(blob)
		s.CDHash = hex.EncodeToString(sum[:])
	case CS_HASHTYPE_SHA256:
		s.HashType = "sha256"
		sum := sha256.Sum256(blob)
		s.CDHash = hex.EncodeToString(sum[:20])
	default:
		s.HashType = fmt.Sprintf("unknown(%d)", blob[37])
	}
	return nil
}

// cString reads a NUL terminated string starting at offset
func cString(data []byte, offset uint32) string {
	if offset >= uint32(len(data)) {
		return ""
	}
	end := offset
	for end < uint32(len(data)) && data[end] != 0 {
		end++
	}
	return string(data[offset:end])
}

func cmsSigner(der []byte) string {
	if len(der) == 0 {
		return ""
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return ""
	}
	if cert := p7.GetOnlySigner(); cert != nil {
		return cert.Subject.CommonName
	}
	return ""
}

// findCodeSignatureOffset walks the load commands of a thin Mach-O for
// LC_CODE_SIGNATURE and returns its data offset and size.
func findCodeSignatureOffset(data []byte) (offset, size uint32, found bool) {
	if len(data) < 32 {
		return 0, 0, false
	}

	var headerSize uint32
	switch binary.LittleEndian.Uint32(data[:4]) {
	case 0xfeedfacf: // MH_MAGIC_64
		headerSize = 32
	case 0xfeedface: // MH_MAGIC
		headerSize = 28
	default:
		return 0, 0, false
	}

	ncmds := binary.LittleEndian.Uint32(data[16:20])
	sizeofcmds := binary.LittleEndian.Uint32(data[20:24])
	if uint64(len(data)) < uint64(headerSize)+uint64(sizeofcmds) {
		return 0, 0, false
	}

	cmdOffset := headerSize
	end := headerSize + sizeofcmds
	for i := uint32(0); i < ncmds && cmdOffset+8 <= end; i++ {
		cmd := binary.LittleEndian.Uint32(data[cmdOffset:])
		cmdSize := binary.LittleEndian.Uint32(data[cmdOffset+4:])
		if cmd == LC_CODE_SIGNATURE && cmdSize >= 16 {
			return binary.LittleEndian.Uint32(data[cmdOffset+8:]), binary.LittleEndian.Uint32(data[cmdOffset+12:]), true
		}
		if cmdSize == 0 {
			break
		}
		cmdOffset += cmdSize
	}
	return 0, 0, false
}
