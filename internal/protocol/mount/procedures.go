package mount

import (
	"fmt"
	"path"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/marmos91/nfs3gw/pkg/export"
)

// ============================================================================
// NULL
// ============================================================================

func handleNull(h *Handler, ctx *MountContext, data []byte) ([]byte, uint32, error) {
	logger.Debug("MOUNT NULL: client=%s", ctx.ClientIP)
	return nil, MountOK, nil
}

// ============================================================================
// MNT
// ============================================================================

// MountResponse is fhstatus (versions 1 and 2) or mountres3 (version 3).
type MountResponse struct {
	Status      uint32
	FileHandle  []byte
	AuthFlavors []uint32
}

// DecodeDirPath decodes the dirpath argument of MNT and UMNT.
func DecodeDirPath(data []byte) (string, error) {
	p, err := xdr.NewReader(data).ReadString(MaxPathLen)
	if err != nil {
		return "", fmt.Errorf("%w: dirpath: %v", errGarbageArgs, err)
	}
	return p, nil
}

// Encode writes the reply layout of the given MOUNT version.
func (resp *MountResponse) Encode(version uint32) []byte {
	w := xdr.NewWriter(64)
	w.WriteUint32(resp.Status)
	if resp.Status != MountOK {
		return w.Bytes()
	}

	if version < Version {
		w.WriteFixedOpaqueN(resp.FileHandle, fhSizeV2)
		return w.Bytes()
	}

	w.WriteOpaque(resp.FileHandle)
	w.WriteUint32(uint32(len(resp.AuthFlavors)))
	for _, f := range resp.AuthFlavors {
		w.WriteUint32(f)
	}
	return w.Bytes()
}

// Mnt returns the root handle when dirPath names the export and the
// client is allowed in.
func (h *Handler) Mnt(ctx *MountContext, dirPath string) *MountResponse {
	logger.Info("MOUNT MNT: path=%s client=%s version=%d auth=%d", dirPath, ctx.ClientIP, ctx.Version, ctx.AuthFlavor)

	if len(dirPath) == 0 || dirPath[0] != '/' {
		logger.Warn("MOUNT MNT refused: path not absolute: path=%q client=%s", dirPath, ctx.ClientIP)
		return &MountResponse{Status: MountErrNoEnt}
	}
	if path.Clean(dirPath) != h.cfg.Path {
		logger.Warn("MOUNT MNT refused: unknown export: path=%s client=%s", dirPath, ctx.ClientIP)
		return &MountResponse{Status: MountErrNoEnt}
	}
	if ctx.Access == export.None {
		logger.Warn("MOUNT MNT denied: path=%s client=%s", dirPath, ctx.ClientIP)
		return &MountResponse{Status: MountErrAccess}
	}

	h.registry.Record(ctx.ClientIP, h.cfg.Path)

	logger.Info("MOUNT MNT successful: path=%s client=%s access=%s", dirPath, ctx.ClientIP, ctx.Access)
	return &MountResponse{
		Status:      MountOK,
		FileHandle:  h.root,
		AuthFlavors: []uint32{rpc.AuthSys, rpc.AuthNone},
	}
}

func handleMnt(h *Handler, ctx *MountContext, data []byte) ([]byte, uint32, error) {
	dirPath, err := DecodeDirPath(data)
	if err != nil {
		return nil, 0, err
	}
	resp := h.Mnt(ctx, dirPath)
	return resp.Encode(ctx.Version), resp.Status, nil
}

// ============================================================================
// DUMP
// ============================================================================

// EncodeMountList writes a mountlist: a linked list of (hostname, directory).
func EncodeMountList(entries []Entry) []byte {
	w := xdr.NewWriter(16 + 64*len(entries))
	for _, e := range entries {
		w.WriteBool(true)
		w.WriteString(e.Hostname)
		w.WriteString(e.Directory)
	}
	w.WriteBool(false)
	return w.Bytes()
}

func handleDump(h *Handler, ctx *MountContext, data []byte) ([]byte, uint32, error) {
	entries := h.registry.List()
	logger.Info("MOUNT DUMP: client=%s returned=%d", ctx.ClientIP, len(entries))
	return EncodeMountList(entries), MountOK, nil
}

// ============================================================================
// UMNT and UMNTALL
// ============================================================================

func handleUmnt(h *Handler, ctx *MountContext, data []byte) ([]byte, uint32, error) {
	dirPath, err := DecodeDirPath(data)
	if err != nil {
		return nil, 0, err
	}
	h.registry.Remove(ctx.ClientIP, path.Clean(dirPath))
	logger.Info("MOUNT UMNT: path=%s client=%s", dirPath, ctx.ClientIP)
	return nil, MountOK, nil
}

func handleUmntAll(h *Handler, ctx *MountContext, data []byte) ([]byte, uint32, error) {
	n := h.registry.RemoveAll(ctx.ClientIP)
	logger.Info("MOUNT UMNTALL: client=%s removed=%d", ctx.ClientIP, n)
	return nil, MountOK, nil
}

// ============================================================================
// EXPORT
// ============================================================================

// ExportNode is one exportnode: a directory and the hosts allowed to mount
// it. An empty group list means every host.
type ExportNode struct {
	Directory string
	Groups    []string
}

// EncodeExports writes an exports linked list.
func EncodeExports(nodes []ExportNode) []byte {
	w := xdr.NewWriter(64)
	for _, n := range nodes {
		w.WriteBool(true)
		w.WriteString(n.Directory)
		for _, g := range n.Groups {
			w.WriteBool(true)
			w.WriteString(g)
		}
		w.WriteBool(false)
	}
	w.WriteBool(false)
	return w.Bytes()
}

// Exports lists the export with the hosts whose rules grant any access.
func (h *Handler) Exports() []ExportNode {
	node := ExportNode{Directory: h.cfg.Path, Groups: []string{}}
	if h.exports != nil {
		for _, r := range h.exports.Rules() {
			access, err := export.ParseAccess(r.Access)
			if err != nil || access == export.None {
				continue
			}
			if r.Host == "*" {
				node.Groups = []string{}
				break
			}
			node.Groups = append(node.Groups, r.Host)
		}
	}
	return []ExportNode{node}
}

func handleExport(h *Handler, ctx *MountContext, data []byte) ([]byte, uint32, error) {
	nodes := h.Exports()
	logger.Info("MOUNT EXPORT: client=%s exports=%d", ctx.ClientIP, len(nodes))
	return EncodeExports(nodes), MountOK, nil
}
