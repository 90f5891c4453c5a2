package fsmgr

import (
	"bytes"
	"compress/flate"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/syncwerk/syncwerk-server/internal/syncwerkerr"
)

// canonicalJSON produces the single most important portability contract in
// the whole system (spec §9): keys sorted ascending, no inserted
// whitespace. encoding/json already sorts map keys ascending when
// marshaling a map, so round-tripping any struct through map[string]any
// gives canonical output regardless of the struct's field declaration
// order.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func deflateCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deflateDecompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

// encodeV1 canonicalizes v, computes its id, deflates it, and returns
// (id, compressed bytes) ready to persist. id is the SHA-1 of the
// *uncompressed* canonical JSON (spec §6.1).
func encodeV1(v any) (id string, compressed []byte, err error) {
	raw, err := canonicalJSON(v)
	if err != nil {
		return "", nil, err
	}
	id = sha1Hex(raw)
	compressed, err = deflateCompress(raw)
	if err != nil {
		return "", nil, err
	}
	return id, compressed, nil
}

// decodeV1 decompresses raw bytes, verifies the id, and unmarshals into out.
func decodeV1(id string, raw []byte, out any) error {
	plain, err := deflateDecompress(raw)
	if err != nil {
		return syncwerkerr.CorruptedErr("fsmgr.decodeV1", err)
	}
	if sha1Hex(plain) != id {
		return syncwerkerr.CorruptedErr("fsmgr.decodeV1", fmt.Errorf("hash mismatch for object %s", id))
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return syncwerkerr.CorruptedErr("fsmgr.decodeV1", err)
	}
	return nil
}

// --- v0 legacy packed binary layouts (read-only; new writes always use v1) ---

// encodeSyncwerkV0 packs {u32 type, u64 file_size, [20]byte block_ids...} in
// network byte order, per spec §6.1.
func encodeSyncwerkV0(s *Syncwerk) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(TypeFile)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.FileSize); err != nil {
		return nil, err
	}
	for _, id := range s.BlockIDs {
		raw, err := hex.DecodeString(id)
		if err != nil || len(raw) != 20 {
			return nil, fmt.Errorf("fsmgr: malformed v0 block id %q", id)
		}
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

func decodeSyncwerkV0(raw []byte) (*Syncwerk, error) {
	r := bytes.NewReader(raw)
	var typ uint32
	if err := binary.Read(r, binary.BigEndian, &typ); err != nil {
		return nil, syncwerkerr.CorruptedErr("fsmgr.decodeSyncwerkV0", err)
	}
	if typ != TypeFile {
		return nil, syncwerkerr.CorruptedErr("fsmgr.decodeSyncwerkV0", fmt.Errorf("unexpected type %d", typ))
	}
	var size uint64
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, syncwerkerr.CorruptedErr("fsmgr.decodeSyncwerkV0", err)
	}
	var ids []string
	idBuf := make([]byte, 20)
	for {
		_, err := io.ReadFull(r, idBuf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, syncwerkerr.CorruptedErr("fsmgr.decodeSyncwerkV0", err)
		}
		ids = append(ids, hex.EncodeToString(idBuf))
	}
	return &Syncwerk{Version: 0, FileSize: size, BlockIDs: ids}, nil
}

// encodeSyncwDirV0 packs {u32 type, [dirent]...}; each dirent is
// {u32 mode, char[40] id, u32 name_len, name}.
//
// The mode field is always written little-endian regardless of host byte
// order: this resolves spec §9's open question about v0 directory-id
// hashing (the original daemon byte-swaps mode on big-endian hosts so that
// ids stay portable; a reimplementation that always hashes little-endian
// mode bytes reaches the same ids without needing host-endianness checks).
func encodeSyncwDirV0(d *SyncwDir) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(TypeDir)); err != nil {
		return nil, err
	}
	for _, e := range d.Dirents {
		if err := binary.Write(&buf, binary.LittleEndian, e.Mode); err != nil {
			return nil, err
		}
		if len(e.ID) != 40 {
			return nil, fmt.Errorf("fsmgr: malformed v0 dirent id %q", e.ID)
		}
		buf.WriteString(e.ID)
		name := []byte(e.Name)
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(name))); err != nil {
			return nil, err
		}
		buf.Write(name)
	}
	return buf.Bytes(), nil
}

func decodeSyncwDirV0(raw []byte) (*SyncwDir, error) {
	r := bytes.NewReader(raw)
	var typ uint32
	if err := binary.Read(r, binary.BigEndian, &typ); err != nil {
		return nil, syncwerkerr.CorruptedErr("fsmgr.decodeSyncwDirV0", err)
	}
	if typ != TypeDir {
		return nil, syncwerkerr.CorruptedErr("fsmgr.decodeSyncwDirV0", fmt.Errorf("unexpected type %d", typ))
	}
	var dirents []Dirent
	for {
		var mode uint32
		if err := binary.Read(r, binary.LittleEndian, &mode); err != nil {
			if err == io.EOF {
				break
			}
			return nil, syncwerkerr.CorruptedErr("fsmgr.decodeSyncwDirV0", err)
		}
		idBuf := make([]byte, 40)
		if _, err := io.ReadFull(r, idBuf); err != nil {
			return nil, syncwerkerr.CorruptedErr("fsmgr.decodeSyncwDirV0", err)
		}
		var nameLen uint32
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, syncwerkerr.CorruptedErr("fsmgr.decodeSyncwDirV0", err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, syncwerkerr.CorruptedErr("fsmgr.decodeSyncwDirV0", err)
		}
		dirents = append(dirents, Dirent{Mode: mode, ID: string(idBuf), Name: string(nameBuf)})
	}
	return &SyncwDir{Version: 0, Dirents: dirents}, nil
}
