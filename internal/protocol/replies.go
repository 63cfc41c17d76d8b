package protocol

import "fmt"

// Reply texts sent back on the originating connection. The wording matches the
// strings deployed clients already match on.

// CloseReasonInvalidToken accompanies the policy-violation close on auth failure.
const CloseReasonInvalidToken = "Invalid auth token"

const (
	replyRegisterDataError = "❌ Error en datos de registro"
	replyInvalidRole       = "❌ Rol inválido"
	replyNotRegistered     = "❌ Conexión no registrada"
)

func RegisteredAck(role Role, clientID string) string {
	if role == RoleWeb {
		return fmt.Sprintf("✅ Web registrada por %s", clientID)
	}
	return fmt.Sprintf("✅ App registrada por %s", clientID)
}

func InvalidFormat(err error) string {
	return fmt.Sprintf("❌ Formato inválido: %v", err)
}

func RegisterDataError() string { return replyRegisterDataError }

func InvalidRole() string { return replyInvalidRole }

func NotRegistered() string { return replyNotRegistered }

func AlreadyRegistered(role Role, clientID string) string {
	return fmt.Sprintf("❌ Conexión ya registrada como %s %s", role.Title(), clientID)
}

func SendDataError(envType string, err error) string {
	return fmt.Sprintf("❌ Error en datos de %s: %v", envType, err)
}

func BodyRequired(method Method) string {
	return fmt.Sprintf("❌ 'body' es obligatorio para %s", method)
}

func ResponseParseError(err error) string {
	return fmt.Sprintf("❌ Error parseando respuesta: %v", err)
}

func NotConnected(role Role, to string) string {
	return fmt.Sprintf("❌ %s %s no conectado", role.Title(), to)
}

func DeliveryFailed(role Role, to string) string {
	return fmt.Sprintf("❌ Falló envío a %s %s", role.Title(), to)
}

func UnsupportedType(envType string) string {
	return fmt.Sprintf("❌ Tipo de mensaje no soportado: %s", envType)
}
