package defs

// Pid_t identifies a process; Tid_t identifies the single kernel thread
// backing it (CoalOS does not support multiple threads per process, so
// Tid_t and Pid_t share a numbering but are kept distinct types the way
// the teacher keeps Tid_t distinct from a bare int).
type Pid_t int
type Tid_t int

// Pid/tid reservations. 0 is never a valid process; 1 is conventionally
// the first user process (init-equivalent).
const (
	ReservedPids Pid_t = 2
)

// Syscall numbers, matching the surface in spec.md section 6.
const (
	SYS_EXIT = iota
	SYS_FORK
	SYS_READ
	SYS_WRITE
	SYS_OPEN
	SYS_CLOSE
	SYS_PUTS
	SYS_EXECV
	SYS_CHDIR
	SYS_WAITPID
	SYS_LSEEK
	SYS_GETPID
	SYS_READTERM
	SYS_DUP2
	SYS_KILL
	SYS_PIPE
	SYS_SIGNAL
	SYS_GETPPID
	SYS_GETCWD

	SYS_COUNT
)

// Open flags, bit positions stable with POSIX per spec.md section 6.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
	O_TRUNC  = 0x200
	O_APPEND = 0x400
	O_EXCL   = 0x80 // only meaningful combined with O_CREAT
)

// Lseek whence values.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// Signal numbers the kernel recognizes specially; others are delivered
// best-effort to a process's handler table (spec.md section 4.5).
const (
	SIGKILL = 9
	SIGSTOP = 19
	// SIGSEGV is what a user-mode fault outside any reserved, growable
	// stack range delivers (spec.md section 7: "any other user-mode
	// fault terminates the process with a fatal signal").
	SIGSEGV = 11
)

// MAXSIG is the number of handler slots a PCB carries (spec.md section 3:
// "32 handler slots").
const MAXSIG = 32
