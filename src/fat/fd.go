package fat

// vnode_t is the opaque handle fat.Fat_t.Open returns (fdops.Vnode_i):
// a device id plus an inode number synthesized from the file's
// directory-entry location (block<<16 | byte offset), not from its
// first cluster -- a zero-length file has first_cluster==0 and two
// such files would otherwise collide on the same "inode".
type vnode_t struct {
	dev   uint
	inode uint
	isDir bool
}

/// VnodeKey satisfies fdops.Vnode_i.
func (v *vnode_t) VnodeKey() (devId uint, inum uint) {
	return v.dev, v.inode
}
