package main

import (
	"fmt"
	"os"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridge"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/proxy"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/value"
)

func main() {
	fmt.Println("reactive-crdt-bridge demo starting...")

	doc := crdtdoc.NewDoc("node-a", crdtdoc.KindMap)

	b, err := bridge.CreateBridge[*proxy.Object](doc, bridge.Options{})
	if err != nil {
		fmt.Println("failed to create bridge:", err)
		os.Exit(1)
	}
	defer b.Dispose()

	if err := b.Bootstrap(map[string]any{
		"title": "demo board",
		"items": []any{},
	}); err != nil {
		fmt.Println("bootstrap failed:", err)
		os.Exit(1)
	}

	root := b.Proxy()

	if err := root.Set("title", "renamed board"); err != nil {
		fmt.Println("set failed:", err)
		os.Exit(1)
	}

	items, ok := root.Get("items")
	if !ok {
		fmt.Println("items missing after bootstrap")
		os.Exit(1)
	}
	arr, ok := items.(*proxy.Array)
	if !ok {
		fmt.Println("items is not an array proxy")
		os.Exit(1)
	}
	if err := arr.Push("first", "second", "third"); err != nil {
		fmt.Println("push failed:", err)
		os.Exit(1)
	}

	fork := doc.Fork("node-b")
	forkRoot := fork.Root().(*crdtdoc.Map)
	snapshot := value.ToPlain(forkRoot)
	fmt.Printf("replica node-b snapshot after fork: %v\n", snapshot)

	fmt.Println("demo complete")
}
