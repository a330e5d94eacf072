package clone

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/skypro1111/voice-clone-service/internal/audio"
	"github.com/skypro1111/voice-clone-service/internal/engine"
)

// Kind classifies a failed clone request
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDecode
	KindModelLoad
	KindSynthesis
	KindEncode
)

// User-facing messages. Details stay in the server log.
const (
	MsgMissingInput     = "Fichier audio ou texte manquant"
	MsgBadExtension     = "Format de fichier non autorisé"
	MsgUnreadableAudio  = "Fichier audio illisible"
	MsgNoSpeech         = "Aucune voix détectée dans le fichier audio"
	MsgModelUnavailable = "Erreur serveur : modèle de synthèse indisponible"
	MsgSynthesisFailed  = "Erreur serveur : échec de la synthèse vocale"
	MsgEncodeFailed     = "Erreur serveur : échec de l'encodage audio"
	MsgInternal         = "Erreur serveur"
)

// ErrNoSpeech marks reference recordings without enough voiced audio
var ErrNoSpeech = errors.New("no speech detected")

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDecode:
		return "decode"
	case KindModelLoad:
		return "model_load"
	case KindSynthesis:
		return "synthesis"
	case KindEncode:
		return "encode"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code reported for k
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindDecode:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the default user-facing message for k
func (k Kind) Message() string {
	switch k {
	case KindDecode:
		return MsgUnreadableAudio
	case KindModelLoad:
		return MsgModelUnavailable
	case KindSynthesis:
		return MsgSynthesisFailed
	case KindEncode:
		return MsgEncodeFailed
	default:
		return MsgInternal
	}
}

// Error is a failed clone request with the stage it failed in
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string // safe to show to the client
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed (%s): %s", e.Stage, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error
func (e *Error) Status() int {
	return e.Kind.Status()
}

func validationError(message string) *Error {
	return &Error{Kind: KindValidation, Stage: StageValidate, Message: message}
}

// classify maps a stage failure onto the error taxonomy
func classify(stage Stage, err error) *Error {
	var cloneErr *Error
	if errors.As(err, &cloneErr) {
		return cloneErr
	}

	kind := KindInternal
	switch {
	case errors.Is(err, audio.ErrTranscoderUnavailable):
		kind = KindInternal
	case errors.Is(err, audio.ErrDecode), errors.Is(err, ErrNoSpeech):
		kind = KindDecode
	case errors.Is(err, engine.ErrModelLoad):
		kind = KindModelLoad
	case errors.Is(err, engine.ErrSynthesis):
		kind = KindSynthesis
	case errors.Is(err, audio.ErrEncode):
		kind = KindEncode
	}

	message := kind.Message()
	if errors.Is(err, ErrNoSpeech) {
		message = MsgNoSpeech
	}

	return &Error{Kind: kind, Stage: stage, Message: message, Err: err}
}
