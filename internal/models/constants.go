package models

const (
	// RejectionMessage is returned instead of an answer for empty questions.
	RejectionMessage = "Invalid question! Please rephrase your question."
	Greeting         = "Hello World!"
	EchoFormat       = "Here is the query string passed: %s"

	ManifestFile   = "manifest.yaml"
	PDFExtension   = ".pdf"
	ContextJoinSep = "\n\n"

	MetaSource  = "source"
	MetaChunkID = "chunk_id"
)

var (
	// StuffPromptTemplate is the prompt used by the retrieval QA chain.
	StuffPromptTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{{.context}}

Question: {{.question}}
Helpful Answer:`
)
