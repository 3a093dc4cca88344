package types

import "fmt"

// StatusName returns the RFC 1813 name of an nfsstat3, e.g. "NFS3ERR_NOENT".
// It is used for log lines and metric labels.
func StatusName(status uint32) string {
	switch status {
	case NFS3OK:
		return "NFS3_OK"
	case NFS3ErrPerm:
		return "NFS3ERR_PERM"
	case NFS3ErrNoEnt:
		return "NFS3ERR_NOENT"
	case NFS3ErrIO:
		return "NFS3ERR_IO"
	case NFS3ErrNxio:
		return "NFS3ERR_NXIO"
	case NFS3ErrAcces:
		return "NFS3ERR_ACCES"
	case NFS3ErrExist:
		return "NFS3ERR_EXIST"
	case NFS3ErrXdev:
		return "NFS3ERR_XDEV"
	case NFS3ErrNoDev:
		return "NFS3ERR_NODEV"
	case NFS3ErrNotDir:
		return "NFS3ERR_NOTDIR"
	case NFS3ErrIsDir:
		return "NFS3ERR_ISDIR"
	case NFS3ErrInval:
		return "NFS3ERR_INVAL"
	case NFS3ErrFBig:
		return "NFS3ERR_FBIG"
	case NFS3ErrNoSpc:
		return "NFS3ERR_NOSPC"
	case NFS3ErrRofs:
		return "NFS3ERR_ROFS"
	case NFS3ErrMlink:
		return "NFS3ERR_MLINK"
	case NFS3ErrNameTooLong:
		return "NFS3ERR_NAMETOOLONG"
	case NFS3ErrNotEmpty:
		return "NFS3ERR_NOTEMPTY"
	case NFS3ErrDQuot:
		return "NFS3ERR_DQUOT"
	case NFS3ErrStale:
		return "NFS3ERR_STALE"
	case NFS3ErrRemote:
		return "NFS3ERR_REMOTE"
	case NFS3ErrBadHandle:
		return "NFS3ERR_BADHANDLE"
	case NFS3ErrNotSync:
		return "NFS3ERR_NOT_SYNC"
	case NFS3ErrBadCookie:
		return "NFS3ERR_BAD_COOKIE"
	case NFS3ErrNotSupp:
		return "NFS3ERR_NOTSUPP"
	case NFS3ErrTooSmall:
		return "NFS3ERR_TOOSMALL"
	case NFS3ErrServerFault:
		return "NFS3ERR_SERVERFAULT"
	case NFS3ErrBadType:
		return "NFS3ERR_BADTYPE"
	case NFS3ErrJukebox:
		return "NFS3ERR_JUKEBOX"
	default:
		return fmt.Sprintf("UNKNOWN_%d", status)
	}
}
