package hotkey

// FakeHotkey lets tests and the -test harness inject edges.
type FakeHotkey struct {
	edges chan Edge

	// RegisterErr, when set, is returned by Register.
	RegisterErr error
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{edges: make(chan Edge, 64)}
}

func (f *FakeHotkey) Register() error    { return f.RegisterErr }
func (f *FakeHotkey) Unregister()        {}
func (f *FakeHotkey) Edges() <-chan Edge { return f.edges }

func (f *FakeHotkey) SimKeydown() { f.edges <- Down }
func (f *FakeHotkey) SimKeyup()   { f.edges <- Up }
