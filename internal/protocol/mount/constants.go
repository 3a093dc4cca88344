package mount

import "fmt"

// Program and versions of the MOUNT protocol (RFC 1813 Appendix I).
const (
	Program    = 100005
	VersionLow = 1
	Version    = 3
)

// Procedure numbers. They are identical across versions 1 to 3.
const (
	ProcNull    = 0
	ProcMnt     = 1
	ProcDump    = 2
	ProcUmnt    = 3
	ProcUmntAll = 4
	ProcExport  = 5
)

// MaxPathLen bounds dirpath (MNTPATHLEN) and MaxNameLen bounds hostnames
// and group names (MNTNAMLEN).
const (
	MaxPathLen = 1024
	MaxNameLen = 255
)

// fhSizeV2 is the fixed fhandle size of MOUNT versions 1 and 2.
const fhSizeV2 = 32

// Status codes (mountstat3).
const (
	MountOK             = 0
	MountErrPerm        = 1
	MountErrNoEnt       = 2
	MountErrIO          = 5
	MountErrAccess      = 13
	MountErrNotDir      = 20
	MountErrInval       = 22
	MountErrNameTooLong = 63
	MountErrNotSupp     = 10004
	MountErrServerFault = 10006
)

// StatusName returns the RFC name of a mountstat3.
func StatusName(status uint32) string {
	switch status {
	case MountOK:
		return "MNT3_OK"
	case MountErrPerm:
		return "MNT3ERR_PERM"
	case MountErrNoEnt:
		return "MNT3ERR_NOENT"
	case MountErrIO:
		return "MNT3ERR_IO"
	case MountErrAccess:
		return "MNT3ERR_ACCES"
	case MountErrNotDir:
		return "MNT3ERR_NOTDIR"
	case MountErrInval:
		return "MNT3ERR_INVAL"
	case MountErrNameTooLong:
		return "MNT3ERR_NAMETOOLONG"
	case MountErrNotSupp:
		return "MNT3ERR_NOTSUPP"
	case MountErrServerFault:
		return "MNT3ERR_SERVERFAULT"
	default:
		return fmt.Sprintf("UNKNOWN_%d", status)
	}
}

var procNames = map[uint32]string{
	ProcNull:    "NULL",
	ProcMnt:     "MNT",
	ProcDump:    "DUMP",
	ProcUmnt:    "UMNT",
	ProcUmntAll: "UMNTALL",
	ProcExport:  "EXPORT",
}
