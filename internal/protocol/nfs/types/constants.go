package types

// Program and version served.
const (
	ProgramNFS = 100003
	NFSVersion = 3
)

// NFSv3 procedure numbers (RFC 1813 Section 3).
const (
	ProcNull        = 0
	ProcGetAttr     = 1
	ProcSetAttr     = 2
	ProcLookup      = 3
	ProcAccess      = 4
	ProcReadLink    = 5
	ProcRead        = 6
	ProcWrite       = 7
	ProcCreate      = 8
	ProcMkdir       = 9
	ProcSymlink     = 10
	ProcMknod       = 11
	ProcRemove      = 12
	ProcRmdir       = 13
	ProcRename      = 14
	ProcLink        = 15
	ProcReadDir     = 16
	ProcReadDirPlus = 17
	ProcFsStat      = 18
	ProcFsInfo      = 19
	ProcPathConf    = 20
	ProcCommit      = 21
)

// ProcNames maps procedure numbers to their RFC names, for logs and metrics.
var ProcNames = [...]string{
	ProcNull:        "NULL",
	ProcGetAttr:     "GETATTR",
	ProcSetAttr:     "SETATTR",
	ProcLookup:      "LOOKUP",
	ProcAccess:      "ACCESS",
	ProcReadLink:    "READLINK",
	ProcRead:        "READ",
	ProcWrite:       "WRITE",
	ProcCreate:      "CREATE",
	ProcMkdir:       "MKDIR",
	ProcSymlink:     "SYMLINK",
	ProcMknod:       "MKNOD",
	ProcRemove:      "REMOVE",
	ProcRmdir:       "RMDIR",
	ProcRename:      "RENAME",
	ProcLink:        "LINK",
	ProcReadDir:     "READDIR",
	ProcReadDirPlus: "READDIRPLUS",
	ProcFsStat:      "FSSTAT",
	ProcFsInfo:      "FSINFO",
	ProcPathConf:    "PATHCONF",
	ProcCommit:      "COMMIT",
}

// ProcName returns the name of proc, or "UNKNOWN".
func ProcName(proc uint32) string {
	if int(proc) < len(ProcNames) {
		return ProcNames[proc]
	}
	return "UNKNOWN"
}

// NFS status codes (nfsstat3, RFC 1813 Section 2.6).
const (
	NFS3OK             = 0
	NFS3ErrPerm        = 1
	NFS3ErrNoEnt       = 2
	NFS3ErrIO          = 5
	NFS3ErrNxio        = 6
	NFS3ErrAcces       = 13
	NFS3ErrExist       = 17
	NFS3ErrXdev        = 18
	NFS3ErrNoDev       = 19
	NFS3ErrNotDir      = 20
	NFS3ErrIsDir       = 21
	NFS3ErrInval       = 22
	NFS3ErrFBig        = 27
	NFS3ErrNoSpc       = 28
	NFS3ErrRofs        = 30
	NFS3ErrMlink       = 31
	NFS3ErrNameTooLong = 63
	NFS3ErrNotEmpty    = 66
	NFS3ErrDQuot       = 69
	NFS3ErrStale       = 70
	NFS3ErrRemote      = 71
	NFS3ErrBadHandle   = 10001
	NFS3ErrNotSync     = 10002
	NFS3ErrBadCookie   = 10003
	NFS3ErrNotSupp     = 10004
	NFS3ErrTooSmall    = 10005
	NFS3ErrServerFault = 10006
	NFS3ErrBadType     = 10007
	NFS3ErrJukebox     = 10008
)

// File types (ftype3).
const (
	FileTypeRegular   = 1
	FileTypeDirectory = 2
	FileTypeBlock     = 3
	FileTypeChar      = 4
	FileTypeSymlink   = 5
	FileTypeSocket    = 6
	FileTypeFifo      = 7
)

// ACCESS permission bits (RFC 1813 Section 3.3.4).
const (
	AccessRead    = 0x0001
	AccessLookup  = 0x0002
	AccessModify  = 0x0004
	AccessExtend  = 0x0008
	AccessDelete  = 0x0010
	AccessExecute = 0x0020

	AccessAll = AccessRead | AccessLookup | AccessModify | AccessExtend | AccessDelete | AccessExecute
)

// WRITE stability levels (stable_how).
const (
	WriteUnstable = 0
	WriteDataSync = 1
	WriteFileSync = 2
)

// CREATE modes (createmode3).
const (
	CreateUnchecked = 0
	CreateGuarded   = 1
	CreateExclusive = 2
)

// SETATTR time modes (time_how).
const (
	DontChange      = 0
	SetToServerTime = 1
	SetToClientTime = 2
)

// FSINFO properties bits.
const (
	FSFLink        = 0x0001
	FSFSymlink     = 0x0002
	FSFHomogeneous = 0x0008
	FSFCanSetTime  = 0x0010
)

// Sizes fixed by the protocol.
const (
	// CookieVerfSize is the size of cookieverf3.
	CookieVerfSize = 8

	// WriteVerfSize is the size of writeverf3.
	WriteVerfSize = 8

	// CreateVerfSize is the size of createverf3.
	CreateVerfSize = 8

	// MaxFileHandleSize is NFS3_FHSIZE.
	MaxFileHandleSize = 64

	// MaxNameLen is the longest component name accepted.
	MaxNameLen = 255
)
