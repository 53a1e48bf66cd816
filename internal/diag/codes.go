package diag

import "fmt"

type Code uint16

const (
	UnknownCode Code = 0

	// Compiler findings.
	CCInfo                Code = 1000
	CCError               Code = 1001
	CCWarning             Code = 1002
	CCMissingHeader       Code = 1003
	CCImplicitDeclaration Code = 1004

	// Linker findings.
	LinkInfo            Code = 2000
	LinkError           Code = 2001
	LinkUndefinedSymbol Code = 2002
	LinkDuplicateSymbol Code = 2003
	LinkMissingScript   Code = 2004
	LinkWarning         Code = 2005

	// Archiver findings.
	ArchiveError Code = 3001

	// Boot image findings.
	ImageError           Code = 4001
	ImageMissingHeader   Code = 4002
	ImageWrongMachine    Code = 4003
	ImageNotExecutable   Code = 4004
	ImageStubUnavailable Code = 4005
)

var codeDescription = map[Code]string{
	UnknownCode:           "Unknown error",
	CCInfo:                "Compiler information",
	CCError:               "Compiler error",
	CCWarning:             "Compiler warning",
	CCMissingHeader:       "Header not found",
	CCImplicitDeclaration: "Implicit function declaration",
	LinkInfo:              "Linker information",
	LinkError:             "Linker error",
	LinkUndefinedSymbol:   "Undefined symbol",
	LinkDuplicateSymbol:   "Duplicate symbol",
	LinkMissingScript:     "Linker script not found",
	LinkWarning:           "Linker warning",
	ArchiveError:          "Archiver error",
	ImageError:            "Boot image error",
	ImageMissingHeader:    "Missing boot header",
	ImageWrongMachine:     "Kernel built for the wrong machine",
	ImageNotExecutable:    "Kernel is not an executable",
	ImageStubUnavailable:  "Boot stub unavailable",
}

func (c Code) ID() string {
	return fmt.Sprintf("KLN%04d", uint16(c))
}

func (c Code) Title() string {
	if s, ok := codeDescription[c]; ok {
		return s
	}
	return codeDescription[UnknownCode]
}

func (c Code) String() string {
	return c.ID()
}
